package models

// Response is the envelope returned across every process boundary.
// Error holds the ErrorKind name when one applies; Detail carries the
// underlying message.
type Response struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

type CaptureResult struct {
	Filename string `json:"filename"`
}

func Success(result interface{}) Response {
	return Response{Success: true, Result: result}
}

func Failure(err error) Response {
	resp := Response{Success: false, Detail: err.Error()}
	if kind := KindOf(err); kind != "" {
		resp.Error = string(kind)
	} else {
		resp.Error = err.Error()
	}
	return resp
}
