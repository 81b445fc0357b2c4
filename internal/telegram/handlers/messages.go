package handlers

const (
	msgWelcome = "Hi! I keep track of your contacts and their conversations. Send /help to see what I can do."
	msgHelp    = `Commands:
/contacts - list contacts, pinned first
/contact <id> - show a contact and its latest analysis
/analyze <id> - fetch the history of a contact and analyze it`
	msgUnauthorized   = "You are not authorized to use this command."
	msgUsageContact   = "Usage: /contact <id>"
	msgUsageAnalyze   = "Usage: /analyze <id>"
	msgNotFound       = "Contact not found."
	msgNoContacts     = "No contacts imported yet."
	msgGeneralError   = "Something went wrong, please try again later."
	msgAnalyzing      = "Analyzing the conversation, this can take a while..."
	msgAnalyzeBusy    = "An analysis of this contact is already running."
	msgAnalyzeTimeout = "The analysis is taking longer than expected. The result will be saved when it finishes."
	msgHistoryFailed  = "Failed to fetch the chat history."
	msgAnalysisFailed = "The analysis service failed."
)

// contactsListLimit caps the /contacts reply.
const contactsListLimit = 30
