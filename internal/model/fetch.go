package model

import "strconv"

// Sentinel status codes for fetches that did not yield usable content.
const (
	StatusHTMLTooShort    = "HTML_TOO_SHORT"
	StatusCaptchaDetected = "CAPTCHA_DETECTED"
	StatusUnexpectedError = "UNEXPECTED_ERROR"
)

// FetchResult is the outcome of fetching one URL. It is either a success
// (Content set, StatusCode "200") or an error (ErrorMessage set, StatusCode
// an HTTP code or one of the sentinel codes).
type FetchResult struct {
	URL           string `json:"url"`
	Content       string `json:"content,omitempty"`
	ContentLength int    `json:"content_length,omitempty"`
	StatusCode    string `json:"status_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// OK reports whether the fetch produced usable content.
func (r FetchResult) OK() bool {
	return r.ErrorMessage == "" && r.StatusCode == "200"
}

// FetchSuccess builds a successful result.
func FetchSuccess(url, content string) FetchResult {
	return FetchResult{
		URL:           url,
		Content:       content,
		ContentLength: len(content),
		StatusCode:    "200",
	}
}

// FetchFailure builds an error result with a sentinel status.
func FetchFailure(url, status, msg string) FetchResult {
	return FetchResult{URL: url, StatusCode: status, ErrorMessage: msg}
}

// FetchHTTPFailure builds an error result from an HTTP status code.
func FetchHTTPFailure(url string, code int, msg string) FetchResult {
	return FetchResult{URL: url, StatusCode: strconv.Itoa(code), ErrorMessage: msg}
}
