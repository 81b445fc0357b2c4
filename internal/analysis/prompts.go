package analysis

import "fmt"

// SystemInstruction describes the analysis document the model must return.
// The %s verb receives the response language.
const SystemInstruction = `
Analyze the conversation history and return a detailed analysis in the following JSON format:

{
  "summary": "Short overview of the main topics and key points of the conversation",
  "topics": ["Main topics discussed"],
  "sentiment": "Overall tone of the conversation: positive, neutral or negative",
  "actionItems": ["Tasks or plans mentioned for the future"],
  "participants": {
    "roles": ["Roles of the participants"],
    "interests": ["Main interests of the participants"],
    "communicationStyle": ["Communication styles of the participants (visual/auditory/kinesthetic/digital)"]
  },
  "context": {
    "type": "Type of conversation (business/personal/mixed)",
    "mainGoal": "Main goal of the discussion",
    "technologies": ["Technologies, products or companies mentioned"]
  },
  "psychologicalAspects": {
    "values": ["Key values of the participants"],
    "motivations": ["Motivating factors"],
    "mood": "Overall mood of the conversation"
  },
  "businessAnalysis": {
    "strengths": ["Strengths of the collaboration"],
    "risks": ["Potential risks"],
    "recommendations": ["Recommendations for further actions"]
  },
  "conclusions": {
    "achieved": ["Results achieved"],
    "pending": ["Open questions"],
    "nextSteps": ["Proposed next steps"]
  }
}

Pay particular attention to:
1. Roles and interests of the participants
2. Psychological aspects of the communication
3. Business context and prospects
4. Concrete results and plans
5. Recommendations for improving the interaction

Keep the JSON keys and the sentiment value exactly as shown. Write every other value strictly in %s.
`

// systemPrompt renders SystemInstruction for language.
func systemPrompt(language string) string {
	if language == "" {
		language = "Russian"
	}
	return fmt.Sprintf(SystemInstruction, language)
}
