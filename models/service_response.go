package models

// ServiceResponse wraps every API payload, Code names the failure class when Error is set
type ServiceResponse[T any] struct {
	Data  *T     `json:"data"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func GetServiceResponseOk[T any](data *T) ServiceResponse[T] {
	return ServiceResponse[T]{
		Data: data,
	}
}

func GetServiceResponseError(code, errorMessage string) ServiceResponse[any] {
	return ServiceResponse[any]{
		Data:  nil,
		Error: errorMessage,
		Code:  code,
	}
}
