package utils

// ResponseData is the envelope of every REST response.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded aborts the current handler with err. The recovery middleware
// renders it as a ResponseData.
func PanicIfNeeded(err any) {
	if err != nil {
		panic(err)
	}
}
