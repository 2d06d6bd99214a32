// Package prompts holds the instructions sent to language models.
//
// Prompt text is Go code rather than config because it is program logic:
// templates are interpolated with fmt.Sprintf and checked by tests. Each
// prompt family gets its own file with an exported function that takes
// the dynamic parts and returns the finished prompt.
package prompts
