package gitexport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseTarget splits "owner/repo" or "owner/repo@branch" into its parts,
// defaulting to the main branch.
func parseTarget(target string) (owner, repo, branch string, err error) {
	branch = "main"
	if at := strings.LastIndex(target, "@"); at != -1 {
		branch = target[at+1:]
		target = target[:at]
	}
	parts := strings.SplitN(target, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("gitexport: invalid target %q, expected owner/repo[@branch]", target)
	}
	return parts[0], parts[1], branch, nil
}

// jobIDFromPayload extracts the "id" field from an Event payload that has
// round-tripped through storage as raw JSON (rather than a live *models.Job).
func jobIDFromPayload(payload interface{}) (string, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		raw = b
	}
	var job struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("payload carried no job id")
	}
	return job.ID, nil
}
