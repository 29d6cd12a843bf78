package response

// Response represents a standard API response format
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Code       string      `json:"code,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// ErrorWithCode is Error plus a machine-readable code such as "rate_conflict".
func ErrorWithCode(statusCode int, code, err string) Response {
	r := Error(statusCode, err)
	r.Code = code
	return r
}

// ErrorWithData is ErrorWithCode carrying a payload, e.g. the id of the import a duplicate matches.
func ErrorWithData(statusCode int, code, err string, data interface{}) Response {
	r := ErrorWithCode(statusCode, code, err)
	r.Data = data
	return r
}
