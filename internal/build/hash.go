package build

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/slipway-sh/slipway/internal/recipe"
)

// ImageTag derives the tag for a stage from everything that went into the
// image: the rendered Dockerfile (which embeds the pinned base reference and
// the serve commands) and the context digest. Same inputs, same tag, so
// rebuilding an unchanged tree is a no-op.
func ImageTag(stage recipe.Stage, dockerfileText, contextDigest string) string {
	h := sha256.New()
	h.Write([]byte(dockerfileText))
	h.Write([]byte{0})
	h.Write([]byte(contextDigest))
	return fmt.Sprintf("%s-%s", stage, hex.EncodeToString(h.Sum(nil))[:12])
}

// ImageRef is the full local reference for an app's stage image.
func ImageRef(appName string, stage recipe.Stage, dockerfileText, contextDigest string) string {
	return fmt.Sprintf("slipway/%s:%s", appName, ImageTag(stage, dockerfileText, contextDigest))
}

// EnvironmentHash identifies the installed environment independently of the
// application source: the rendered Dockerfile plus the raw manifest bytes.
// Two builds with the same hash install the same interpreter, OS packages
// and dependency set even when the code differs.
func EnvironmentHash(dockerfileText string, manifest []byte) string {
	h := sha256.New()
	h.Write([]byte(dockerfileText))
	h.Write([]byte{0})
	h.Write(manifest)
	return hex.EncodeToString(h.Sum(nil))
}
