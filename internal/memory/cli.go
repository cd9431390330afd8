package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

type commandRunner func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

// CLIClient searches memories by running the memory service's command-line client
// through uv in the configured project directory.
type CLIClient struct {
	dir string
	run commandRunner
}

// NewCLIClient returns a client that runs `uv --directory dir run cognee-cli search`.
func NewCLIClient(dir string) (*CLIClient, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("memory: cli backend requires a project directory")
	}
	uvPath, err := exec.LookPath("uv")
	if err != nil {
		return nil, fmt.Errorf("memory: uv executable not found: %w", err)
	}
	return &CLIClient{
		dir: dir,
		run: func(ctx context.Context, _ string, args ...string) ([]byte, []byte, error) {
			cmd := exec.CommandContext(ctx, uvPath, args...)
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			errRun := cmd.Run()
			return stdout.Bytes(), stderr.Bytes(), errRun
		},
	}, nil
}

// Search implements Client.
func (c *CLIClient) Search(ctx context.Context, query string) (string, bool) {
	args := []string{"--directory", c.dir, "run", "cognee-cli", "search", query, "--output-format", "json"}
	stdout, stderr, err := c.run(ctx, "uv", args...)
	if err != nil {
		log.WithError(err).Error("memory: cli search failed, continuing without memories")
		if len(stderr) > 0 {
			log.Debugf("memory: cli stderr: %s", truncateForLog(string(stderr), 500))
		}
		return "", false
	}

	text, ok := ParseCLIOutput(stdout)
	if !ok {
		log.Info("memory: no memories found in cli response")
		return "", false
	}
	return text, true
}

// ParseCLIOutput extracts the first search result from the CLI's JSON output.
// Log lines printed before the JSON array are skipped.
func ParseCLIOutput(stdout []byte) (string, bool) {
	start := bytes.IndexByte(stdout, '[')
	if start < 0 {
		log.Error("memory: no JSON array found in cli output")
		return "", false
	}
	payload := bytes.TrimSpace(stdout[start:])
	if !gjson.ValidBytes(payload) {
		log.Error("memory: failed to parse cli JSON output")
		log.Debugf("memory: raw cli output: %s", truncateForLog(string(stdout), 500))
		return "", false
	}

	result := gjson.GetBytes(payload, "0.search_result")
	if !result.Exists() || isEmptyJSON(result) {
		return "", false
	}
	first := result
	if result.IsArray() {
		first = result.Get("0")
	}
	return Truncate(jsonString(first))
}

func isEmptyJSON(r gjson.Result) bool {
	switch {
	case r.Type == gjson.Null:
		return true
	case r.Type == gjson.String:
		return r.Str == ""
	case r.IsArray():
		return len(r.Array()) == 0
	case r.IsObject():
		return len(r.Map()) == 0
	}
	return r.Type == gjson.False || (r.Type == gjson.Number && r.Num == 0)
}
