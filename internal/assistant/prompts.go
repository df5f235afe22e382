package assistant

import "fmt"

func replyPrompt(username string) string {
	if username == "" {
		username = "the user"
	}
	return fmt.Sprintf("You are a helpful assistant talking with %s. Answer clearly and concisely.", username)
}

func agenticPrompt(username string) string {
	return replyPrompt(username) + ` Think through the question before answering.
Respond with a single JSON object and nothing else:
{"reasoning": "<your step by step reasoning>", "response": "<the answer shown to the user>"}`
}

func topicPrompt(maxWords int) string {
	return fmt.Sprintf(`Name the conversation below with a short title of at most %d words.
Reply with the title only, without quotes or punctuation at the end.`, maxWords)
}

const summaryPrompt = `Summarize the conversation below in a few sentences.
Keep the facts, decisions and open questions. Write in the third person.`
