package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	docker "github.com/fsouza/go-dockerclient"
	. "github.com/russross/autograder/types"
)

// dockerRunner grades a checkout by running the course's grader image
// against it in an isolated container. The image mounts the checkout,
// runs the per-phase checks, and writes results.json into the mount.
type dockerRunner struct {
	client      *docker.Client
	image       string
	memoryLimit int64
}

func newDockerRunner(endpoint, image string, memoryLimit int64) (*dockerRunner, error) {
	client, err := docker.NewVersionedClient(endpoint, "1.24")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %v", err)
	}
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping docker: %v", err)
	}
	return &dockerRunner{client: client, image: image, memoryLimit: memoryLimit}, nil
}

const resultsFileName = "results.json"

// runnerOutput is the contract with the grader image: per-category
// results with RawScore as a 0..1 fraction. Scoring rescales them to
// the configured points.
type runnerOutput struct {
	Items map[RubricCategory]*RubricResult `json:"items"`
}

func (r *dockerRunner) Grade(ctx context.Context, dir string, phase Phase) (*Rubric, error) {
	container, err := r.client.CreateContainer(docker.CreateContainerOptions{
		Config: &docker.Config{
			Image:           r.image,
			Cmd:             []string{"/grader/run", string(phase)},
			NetworkDisabled: true,
		},
		HostConfig: &docker.HostConfig{
			Binds:  []string{dir + ":/home/student"},
			Memory: r.memoryLimit,
		},
		Context: ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create grader container: %v", err)
	}
	defer func() {
		r.client.RemoveContainer(docker.RemoveContainerOptions{ID: container.ID, Force: true})
	}()

	if err := r.client.StartContainer(container.ID, nil); err != nil {
		return nil, fmt.Errorf("failed to start grader container: %v", err)
	}

	code, err := r.client.WaitContainerWithContext(container.ID, ctx)
	if err != nil {
		return nil, fmt.Errorf("grader container failed: %v", err)
	}
	if code != 0 {
		var stderr bytes.Buffer
		r.client.Logs(docker.LogsOptions{
			Container:   container.ID,
			ErrorStream: &stderr,
			Stderr:      true,
			Tail:        "50",
			Context:     ctx,
		})
		return nil, fmt.Errorf("grader exited with status %d: %s", code, stderr.String())
	}

	rubric, err := readRunnerResults(filepath.Join(dir, resultsFileName))
	if err != nil {
		return nil, err
	}
	attachTestDetails(filepath.Join(dir, "test_detail.xml"), rubric)
	return rubric, nil
}

func readRunnerResults(path string) (*Rubric, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("grader produced no results file: %v", err)
	}
	output := new(runnerOutput)
	if err := json.Unmarshal(raw, output); err != nil {
		return nil, fmt.Errorf("failed to parse grader results: %v", err)
	}
	if len(output.Items) == 0 {
		return nil, fmt.Errorf("grader results are empty")
	}

	rubric := &Rubric{Items: make(map[RubricCategory]*RubricItem)}
	for category, results := range output.Items {
		rubric.Items[category] = &RubricItem{Category: category, Results: results}
	}
	return rubric, nil
}
