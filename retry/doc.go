// Package retry implements the recoverable-error classifier and backoff
// scheduler (C5): a priority-ordered ErrorKind classification grounded in
// unifiedllm's translateError, plus the interactive and autonomous retry
// budgets of spec section 4.5.
package retry
