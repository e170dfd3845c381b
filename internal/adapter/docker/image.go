package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/go-archive"

	"llmobs-harness/internal/harness"
)

// maxProgressTail bounds the build output kept for error messages.
const maxProgressTail = 20

// pullImage pulls an image and drains the progress stream, failing on the
// first error message the daemon reports.
func pullImage(ctx context.Context, docker client.APIClient, img string) error {
	slog.Info("Pulling image.", "component", "docker", "image", img)
	resp, err := docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer resp.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(resp, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	return nil
}

// buildImage tars the context directory and builds cfg.Tag from it.
func buildImage(ctx context.Context, docker client.APIClient, cfg harness.BuildConfig) error {
	log := slog.With("component", "docker", "image", cfg.Tag)
	log.Info("Building image.", "context", cfg.ContextDir, "dockerfile", cfg.Dockerfile)

	buildCtx, err := archive.TarWithOptions(cfg.ContextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("build image %s: archive context %s: %w", cfg.Tag, cfg.ContextDir, err)
	}
	defer buildCtx.Close()

	resp, err := docker.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{cfg.Tag},
		Dockerfile:  cfg.Dockerfile,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("build image %s: %w", cfg.Tag, err)
	}
	defer resp.Body.Close()

	var progress bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, &progress, 0, false, nil); err != nil {
		if tail := lastLines(progress.String(), maxProgressTail); tail != "" {
			return fmt.Errorf("build image %s: %w\n\n%s", cfg.Tag, err, tail)
		}
		return fmt.Errorf("build image %s: %w", cfg.Tag, err)
	}
	log.Debug("Built image.")
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
