package response

import "github.com/gin-gonic/gin"

// The function endpoints (bill-term, new-academic-year) answer with a flat
// body instead of the API envelope so that schedulers and scripts can read
// them without unwrapping.

// FunctionResult is the body of a successful function call.
type FunctionResult struct {
	Message string      `json:"message"`
	Result  interface{} `json:"result,omitempty"`
}

// FunctionError is the body of a failed function call.
type FunctionError struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// Done sends a FunctionResult.
func Done(c *gin.Context, statusCode int, message string, result interface{}) {
	c.JSON(statusCode, FunctionResult{Message: message, Result: result})
}

// Reject sends a FunctionError. details may be nil.
func Reject(c *gin.Context, statusCode int, message string, details interface{}) {
	c.JSON(statusCode, FunctionError{Error: message, Details: details})
}
