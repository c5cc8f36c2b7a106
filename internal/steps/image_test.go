package steps

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/example/semrel/internal/pipeline"
)

func pushRandomImage(t *testing.T, ref string) string {
	t.Helper()
	img, err := random.Image(256, 1)
	if err != nil {
		t.Fatalf("random image: %v", err)
	}
	r, err := name.ParseReference(ref, name.Insecure)
	if err != nil {
		t.Fatalf("parse %s: %v", ref, err)
	}
	if err := remote.Write(r, img); err != nil {
		t.Fatalf("push %s: %v", ref, err)
	}
	d, err := img.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return d.String()
}

func TestImageStepRetagsSource(t *testing.T) {
	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	dgst := pushRandomImage(t, host+"/acme/app:sha-0123456")

	step := buildStep(t, "image", map[string]any{
		"source":   host + "/acme/app:sha-${head}",
		"tags":     []string{"${version}", "latest", "${version}"},
		"insecure": true,
	}, Deps{})
	rc := testContext()
	rc.Head = "0123456"
	ctx := context.Background()
	if err := step.(pipeline.Verifier).Verify(ctx, rc); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	ref, err := step.(pipeline.Publisher).Publish(ctx, rc)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ref != host+"/acme/app@"+dgst {
		t.Fatalf("ref=%q want digest %s", ref, dgst)
	}
	for _, tag := range []string{"1.3.0", "latest"} {
		r, err := name.ParseReference(host+"/acme/app:"+tag, name.Insecure)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		desc, err := remote.Get(r)
		if err != nil {
			t.Fatalf("tag %s missing: %v", tag, err)
		}
		if desc.Digest.String() != dgst {
			t.Fatalf("tag %s digest=%s want %s", tag, desc.Digest, dgst)
		}
	}
}

func TestImageStepVerifyMissingSource(t *testing.T) {
	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	step := buildStep(t, "image", map[string]any{"source": host + "/acme/app:missing", "insecure": true}, Deps{})
	if err := step.(pipeline.Verifier).Verify(context.Background(), testContext()); err == nil {
		t.Fatalf("expected missing image error")
	}
	if _, err := step.(pipeline.Publisher).Publish(context.Background(), testContext()); err == nil {
		t.Fatalf("publish without a resolved source should fail")
	}
}
