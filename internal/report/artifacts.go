package report

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/arith"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/verify"
)

// Artifacts writes plain-text copies of the data behind each verification:
//
//	<data>/negative_d/d_-4/zeros.txt      one ordinate per line
//	<data>/negative_d/d_-4/intervals.txt  "lower upper" per line
//	<data>/negative_d/d_-4/kronecker.txt  "k χ(k)" per line
//	<data>/von_mangoldt_K<K>.txt          "k Λ(k)" per line
type Artifacts struct {
	dir string

	mu      sync.Mutex
	written map[int]bool
}

// NewArtifacts creates the data directory if needed.
func NewArtifacts(dir string) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Artifacts{dir: dir, written: make(map[int]bool)}, nil
}

// DiscriminantDir returns the artifact directory for d.
func (a *Artifacts) DiscriminantDir(d int64) string {
	return filepath.Join(a.dir, arith.Sign(d)+"_d", fmt.Sprintf("d_%d", d))
}

// LambdaPath returns the von Mangoldt table path for K.
func (a *Artifacts) LambdaPath(K int) string {
	return filepath.Join(a.dir, fmt.Sprintf("von_mangoldt_K%d.txt", K))
}

// Write stores the intervals consumed by out and the arrays it was checked
// against. The von Mangoldt table is written once per K.
func (a *Artifacts) Write(out verify.Outcome, chi *arith.Character, lambda *arith.VonMangoldt) error {
	dir := a.DiscriminantDir(out.D)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	err := writeLines(filepath.Join(dir, "zeros.txt"), func(w *bufio.Writer) {
		for _, iv := range out.Used {
			fmt.Fprintf(w, "%s\n", iv.Gamma)
		}
	})
	if err != nil {
		return err
	}
	err = writeLines(filepath.Join(dir, "intervals.txt"), func(w *bufio.Writer) {
		for _, iv := range out.Used {
			fmt.Fprintf(w, "%s %s\n", iv.Lower, iv.Upper)
		}
	})
	if err != nil {
		return err
	}
	if chi != nil {
		err = writeLines(filepath.Join(dir, "kronecker.txt"), func(w *bufio.Writer) {
			for k := 1; k <= chi.K(); k++ {
				fmt.Fprintf(w, "%d %d\n", k, chi.At(k))
			}
		})
		if err != nil {
			return err
		}
	}
	if lambda != nil {
		return a.writeLambda(lambda)
	}
	return nil
}

func (a *Artifacts) writeLambda(lambda *arith.VonMangoldt) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	K := lambda.K()
	if a.written[K] {
		return nil
	}
	path := a.LambdaPath(K)
	if _, err := os.Stat(path); err == nil {
		a.written[K] = true
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	err := writeLines(path, func(w *bufio.Writer) {
		for k := 1; k <= K; k++ {
			fmt.Fprintf(w, "%d %s\n", k, lambda.At(k))
		}
	})
	if err != nil {
		return err
	}
	a.written[K] = true
	return nil
}

// writeLines fills path through a temporary file so that a crash never
// leaves a truncated artifact behind.
func writeLines(path string, fill func(w *bufio.Writer)) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(file)
	fill(w)
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}
	return nil
}
