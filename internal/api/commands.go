package api

import (
	"io"
	"net/http"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
)

// commandAccepted is returned for queued commands. They apply at the start
// of the next tick.
type commandAccepted struct {
	IDs    []string `json:"ids"`
	Queued int      `json:"queued"`
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	cmd, err := decodeCommand(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.composer.SubmitCommand(cmd); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandAccepted{IDs: []string{cmd.ID}, Queued: 1})
}

// handleSubmitBatch queues a JSON array of commands contiguously. One bad
// element rejects the batch.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	cmds, err := clock.DecodeBatch(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.composer.SubmitBatch(cmds); err != nil {
		writeDomainError(w, err)
		return
	}
	ids := make([]string, 0, len(cmds))
	for _, c := range cmds {
		ids = append(ids, c.ID)
	}
	writeJSON(w, http.StatusAccepted, commandAccepted{IDs: ids, Queued: len(cmds)})
}

func decodeCommand(data []byte) (clock.Command, error) {
	env, err := clock.DecodeEnvelope(data)
	if err != nil {
		return clock.Command{}, err
	}
	return env.Command()
}
