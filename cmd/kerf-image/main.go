// kerf-image extracts a kernel image and initramfs from an OCI image
// reference into local files, so the files later passed to "kerf load"
// can come from a container registry rather than being staged by hand.
package main

import (
	"archive/tar"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

func main() {
	fs := flag.NewFlagSet("kerf-image", flag.ExitOnError)
	kernelPath := fs.String("kernel-path", "boot/vmlinuz", "path within the image of the kernel image")
	initrdPath := fs.String("initrd-path", "boot/initrd.img", "path within the image of the initramfs")
	kernelOut := fs.String("kernel-out", "", "output path for the extracted kernel image")
	initrdOut := fs.String("initrd-out", "", "output path for the extracted initramfs, if present")
	fs.Parse(os.Args[1:])

	rest := fs.Args()
	if len(rest) > 1 {
		// Flags may also follow the image reference, as in the usage line.
		fs.Parse(rest[1:])
		rest = append([]string{rest[0]}, fs.Args()...)
	}
	if len(rest) < 1 || *kernelOut == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s <image-ref> -kernel-out <path> [-initrd-out <path>] [-kernel-path <in-image-path>] [-initrd-path <in-image-path>]\n", os.Args[0])
		os.Exit(2)
	}

	if err := extract(rest[0], *kernelPath, *initrdPath, *kernelOut, *initrdOut); err != nil {
		fmt.Fprintf(os.Stderr, "kerf-image: %v\n", err)
		os.Exit(1)
	}
}

func extract(imageRef, kernelPath, initrdPath, kernelOut, initrdOut string) error {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return fmt.Errorf("parse image reference %q: %w", imageRef, err)
	}

	img, err := remote.Image(ref, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	if err != nil {
		return fmt.Errorf("fetch image %q: %w", imageRef, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("read layers: %w", err)
	}

	found := map[string]bool{kernelPath: false}
	if initrdOut != "" {
		found[initrdPath] = false
	}

	// Layers are applied in order; a later layer's copy of a path shadows
	// an earlier one, so scan from the top layer down and stop once
	// every requested path has been found.
	for i := len(layers) - 1; i >= 0; i-- {
		if allFound(found) {
			break
		}
		if err := extractFromLayer(layers[i], kernelPath, kernelOut, initrdPath, initrdOut, found); err != nil {
			return err
		}
	}

	if !found[kernelPath] {
		return fmt.Errorf("kernel path %q not found in any layer of %q", kernelPath, imageRef)
	}
	if initrdOut != "" && !found[initrdPath] {
		fmt.Fprintf(os.Stderr, "kerf-image: initrd path %q not found in any layer of %q; continuing without one\n", initrdPath, imageRef)
	}

	fmt.Printf("extracted kernel to %s\n", kernelOut)
	if initrdOut != "" && found[initrdPath] {
		fmt.Printf("extracted initrd to %s\n", initrdOut)
	}
	return nil
}

func allFound(found map[string]bool) bool {
	for _, ok := range found {
		if !ok {
			return false
		}
	}
	return true
}

func extractFromLayer(layer v1.Layer, kernelPath, kernelOut, initrdPath, initrdOut string, found map[string]bool) error {
	rc, err := layer.Uncompressed()
	if err != nil {
		return fmt.Errorf("read layer: %w", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		entryName := filepath.Clean(hdr.Name)
		switch {
		case !found[kernelPath] && entryName == filepath.Clean(kernelPath):
			if err := writeEntry(tr, kernelOut); err != nil {
				return err
			}
			found[kernelPath] = true
		case initrdOut != "" && !found[initrdPath] && entryName == filepath.Clean(initrdPath):
			if err := writeEntry(tr, initrdOut); err != nil {
				return err
			}
			found[initrdPath] = true
		}
	}
}

func writeEntry(r io.Reader, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("create output directory for %s: %w", out, err)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}

