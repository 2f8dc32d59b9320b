package supervisor

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
)

// healthBodyLimit caps how much of a health response is read.
const healthBodyLimit = 4096

// probePort verifies the port can be bound. Listen-then-close is a cheap
// local check; the real bind happens inside the spawned service.
func probePort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}

// probeHealth performs one liveness probe. Healthy means HTTP 200 with a JSON
// body whose "ok" field is boolean true; anything else is a probe failure.
func probeHealth(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, healthBodyLimit))
		return fmt.Errorf("health status %d", resp.StatusCode)
	}

	var body struct {
		OK *bool `json:"ok"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, healthBodyLimit)).Decode(&body); err != nil {
		return fmt.Errorf("decode health body: %w", err)
	}
	if body.OK == nil || !*body.OK {
		return fmt.Errorf("health body ok=false")
	}
	return nil
}
