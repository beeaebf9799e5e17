package ingest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
)

// RawStore persists fetched articles as gzip-compressed JSONL files,
// one directory per source under <baseDir>/raw.
type RawStore struct {
	baseDir string
}

func NewRawStore(baseDir string) *RawStore {
	return &RawStore{baseDir: baseDir}
}

func (s *RawStore) sourceDir(source string) string {
	return filepath.Join(s.baseDir, "raw", source)
}

// Write stores one fetch batch under raw/<source>/<timestamp>.jsonl.gz
// and returns the file path.
func (s *RawStore) Write(source string, articles []common.Article) (string, error) {
	dir := s.sourceDir(source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create raw dir: %w", err)
	}

	path := filepath.Join(dir, time.Now().UTC().Format("20060102_150405")+".jsonl.gz")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create raw file: %w", err)
	}

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for _, article := range articles {
		if err := enc.Encode(article); err != nil {
			zw.Close()
			f.Close()
			return "", fmt.Errorf("encode article: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("flush raw file: %w", err)
	}
	return path, f.Close()
}

// Load reads every raw file across all sources, in path order.
func (s *RawStore) Load() ([]common.Article, error) {
	root := filepath.Join(s.baseDir, "raw")

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".gz" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan raw dir: %w", err)
	}
	sort.Strings(paths)

	var articles []common.Article
	for _, path := range paths {
		batch, err := readRawFile(path)
		if err != nil {
			return nil, err
		}
		articles = append(articles, batch...)
	}
	return articles, nil
}

func readRawFile(path string) ([]common.Article, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw file: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read raw file %s: %w", path, err)
	}
	defer zr.Close()

	var articles []common.Article
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var article common.Article
		if err := json.Unmarshal(scanner.Bytes(), &article); err != nil {
			return nil, fmt.Errorf("decode article in %s: %w", path, err)
		}
		articles = append(articles, article)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan raw file %s: %w", path, err)
	}
	return articles, nil
}
