// Package prompts contains the LLM prompt text used by Refine.
//
// Prompt text is Go code rather than config files because it is program
// logic: the section list is shared with the output checker, the user turn
// is composed by a function, and both can be validated by tests.
//
// Convention: each prompt category gets its own file with exported
// constants for fixed text and a function that accepts the dynamic parts
// and returns the fully composed message.
package prompts
