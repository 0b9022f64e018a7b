package handlers

import "net/http"

// ICEHandler advertises the ICE servers clients should dial through
// when setting up a call.
type ICEHandler struct {
	stunURL string
}

// NewICEHandler creates a new ICE config handler
func NewICEHandler(stunURL string) *ICEHandler {
	return &ICEHandler{stunURL: stunURL}
}

type iceServerResponse struct {
	URLs []string `json:"urls"`
}

// ServeHTTP handles GET /ice-servers
func (h *ICEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string][]iceServerResponse{
		"iceServers": {{URLs: []string{h.stunURL}}},
	})
}
