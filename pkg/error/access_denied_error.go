package error

import "net/http"

type AccessDeniedError string

func (err AccessDeniedError) Error() string {
	return string(err)
}

func (err AccessDeniedError) ErrCode() string {
	return "ACCESS_DENIED_ERROR"
}

func (err AccessDeniedError) StatusCode() int {
	return http.StatusForbidden
}
