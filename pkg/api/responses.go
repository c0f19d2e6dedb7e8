package api

// MessageResponse is the generic acknowledgement body for operations that
// return no data.
type MessageResponse struct {
	Message string `json:"message"`
}
