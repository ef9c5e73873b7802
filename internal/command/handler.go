package command

import (
	"encoding/json"
	"io"
	"net/http"
)

// MaxBodySize bounds a command request body.
const MaxBodySize = 64 << 10

const (
	replySuccess = "Successful"
	replyInvalid = "Invalid request!"
	replyFailed  = "Could not execute the command!"
)

type reply struct {
	Message string `json:"message"`
}

func writeReply(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply{Message: message})
}

// Handler serves POST /command. Execution blocks the request until the
// command finishes, even if the caller hangs up first.
func Handler(ch *Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
		if err != nil {
			writeReply(w, http.StatusBadRequest, replyInvalid)
			return
		}
		cmd, ok := ch.Translate(body)
		if !ok {
			writeReply(w, http.StatusBadRequest, replyInvalid)
			return
		}
		if !ch.Execute(r.Context(), cmd) {
			writeReply(w, http.StatusInternalServerError, replyFailed)
			return
		}
		writeReply(w, http.StatusOK, replySuccess)
	}
}

// PingHandler answers liveness probes.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode("Alive")
}
