package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jak0707/dially/internal/media"
)

// callSidKey charges a provider webhook to its call. Twilio and Exotel both
// send CallSid, in the form body or, for Exotel passthru, the query.
func callSidKey(r *http.Request) string {
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.Form.Get("CallSid")
}

// artifactKey charges an audio fetch to the call whose turn produced the
// file.
func artifactKey(r *http.Request) string {
	id, _ := media.ArtifactCallID(chi.URLParam(r, "filename"))
	return id
}
