package dtos

// Response is the envelope of every local API reply. Errors is set only on
// failure, and then Data is null.
type Response[T any] struct {
	Message   string         `json:"message"`
	Data      T              `json:"data"`
	RequestID string         `json:"request_id,omitempty"`
	Errors    *ErrorResponse `json:"errors,omitempty"`
}

// ErrorResponse carries an AppError to the client. Kind lets a UI tell a
// local deny from a server rejection without parsing Message.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}
