package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/subcommands"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/exp/mmap"

	"github.com/eak1mov/go-deepview/folder"
	"github.com/eak1mov/go-deepview/mb"
)

// DefaultOpenFiles is the number of packed files and databases kept open by the server.
const DefaultOpenFiles = 64

type serveCmd struct {
	root string
	addr string
}

func (c *serveCmd) Name() string     { return "serve" }
func (c *serveCmd) Synopsis() string { return "serve images over HTTP" }
func (c *serveCmd) Usage() string {
	return `deepview serve -root <dir> [-addr <host:port>]
  Folder images are served as files. Packed and PMTiles files are served with byte range
  support. MBTiles databases are served in folder layout under <name>.mbtiles/.
`
}
func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.root, "root", ".", "Directory to serve")
	f.StringVar(&c.addr, "addr", "localhost:8080", "Listen address")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	logger := loggerArg(args)
	s, err := newServer(c.root, logger)
	if err != nil {
		logger.Error("serve", "error", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	srv := &http.Server{Addr: c.addr, Handler: s}
	logger.Info("serve: listening", "addr", c.addr, "root", c.root)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// openFile is a file shared by concurrent requests. It is closed once evicted and released.
type openFile struct {
	value   any
	closer  io.Closer
	modTime time.Time
	users   sync.WaitGroup
}

type server struct {
	root   string
	logger *slog.Logger
	files  http.Handler

	mu    sync.Mutex
	cache *lru.Cache // file path -> *openFile
}

func newServer(root string, logger *slog.Logger) (*server, error) {
	cache, err := lru.NewWithEvict(DefaultOpenFiles, func(_, value any) {
		f := value.(*openFile)
		go func() {
			f.users.Wait()
			f.closer.Close()
		}()
	})
	if err != nil {
		return nil, err
	}
	return &server{
		root:   root,
		logger: logger,
		files:  http.FileServer(http.Dir(root)),
		cache:  cache,
	}, nil
}

// Close closes every open file once its requests finish.
func (s *server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Content-Length")
	urlPath := path.Clean("/" + r.URL.Path)
	s.logger.Debug("serve: request", "method", r.Method, "path", urlPath, "range", r.Header.Get("Range"))

	if i := strings.Index(urlPath, ".mbtiles/"); i >= 0 {
		s.serveDatabase(w, r, urlPath[:i+len(".mbtiles")], urlPath[i+len(".mbtiles/"):])
		return
	}
	switch strings.ToLower(path.Ext(urlPath)) {
	case ".zif", ".pmtiles":
		s.servePacked(w, r, urlPath)
	default:
		s.files.ServeHTTP(w, r)
	}
}

func (s *server) localPath(urlPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(urlPath))
}

// acquire returns the open file at filePath, opening it on first use.
// The caller must call f.users.Done when finished with it.
func (s *server) acquire(filePath string, open func(string) (any, io.Closer, error)) (*openFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value, ok := s.cache.Get(filePath); ok {
		f := value.(*openFile)
		f.users.Add(1)
		return f, nil
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}
	value, closer, err := open(filePath)
	if err != nil {
		return nil, err
	}
	f := &openFile{value: value, closer: closer, modTime: info.ModTime()}
	f.users.Add(1)
	s.cache.Add(filePath, f)
	return f, nil
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, urlPath string, err error) {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, folder.ErrInvalidPath) {
		http.NotFound(w, r)
		return
	}
	s.logger.Error("serve", "path", urlPath, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *server) servePacked(w http.ResponseWriter, r *http.Request, urlPath string) {
	f, err := s.acquire(s.localPath(urlPath), func(filePath string) (any, io.Closer, error) {
		m, err := mmap.Open(filePath)
		return m, m, err
	})
	if err != nil {
		s.fail(w, r, urlPath, err)
		return
	}
	defer f.users.Done()

	m := f.value.(*mmap.ReaderAt)
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, path.Base(urlPath), f.modTime, io.NewSectionReader(m, 0, int64(m.Len())))
}

// serveDatabase serves an MBTiles database as if it were an image folder.
func (s *server) serveDatabase(w http.ResponseWriter, r *http.Request, dbPath, rest string) {
	f, err := s.acquire(s.localPath(dbPath), func(filePath string) (any, io.Closer, error) {
		reader, err := mb.NewReader(filePath)
		return reader, reader, err
	})
	if err != nil {
		s.fail(w, r, dbPath, err)
		return
	}
	defer f.users.Done()

	reader := f.value.(*mb.Reader)
	p := reader.Pyramid()
	if rest == folder.PropertiesFile {
		if p.TileWidth != p.TileHeight {
			http.Error(w, "tiles are not square", http.StatusUnprocessableEntity)
			return
		}
		var b bytes.Buffer
		err := folder.EncodeProperties(&b, folder.Properties{
			Width:     p.ImageWidth,
			Height:    p.ImageHeight,
			TileSize:  p.TileWidth,
			NumTiles:  p.TotalTiles(),
			NumImages: 1,
			Version:   "1.8",
		})
		if err != nil {
			s.fail(w, r, dbPath, err)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		http.ServeContent(w, r, folder.PropertiesFile, f.modTime, bytes.NewReader(b.Bytes()))
		return
	}

	id, ext, err := folder.ParseTilePath(p, rest)
	if err != nil {
		s.fail(w, r, dbPath, err)
		return
	}
	data, err := reader.ReadTile(id)
	if err != nil {
		s.fail(w, r, dbPath, err)
		return
	}
	if len(data) == 0 {
		http.NotFound(w, r)
		return
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		w.Header().Set("Content-Type", t)
	}
	http.ServeContent(w, r, path.Base(rest), f.modTime, bytes.NewReader(data))
}
