package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"mho/internal/freshness"
	"mho/internal/fsutil"
	"mho/internal/logging"
)

// cachePolicy selects the validation headers of a file response. A response
// carries at most one of them.
type cachePolicy int

const (
	cacheNone cachePolicy = iota
	// cacheETag tags the response with the file's freshness token.
	cacheETag
	// cacheImmutable lets clients reuse the response for a week.
	cacheImmutable
)

func (p cachePolicy) String() string {
	switch p {
	case cacheETag:
		return "etag"
	case cacheImmutable:
		return "immutable"
	default:
		return "none"
	}
}

var errNotRegularFile = errors.New("not a regular file")

// fileResponse is an opened file ready to be written under a cache policy.
type fileResponse struct {
	file   *os.File
	info   fs.FileInfo
	policy cachePolicy
}

// openFile resolves urlPath under dir. Paths escaping dir, directories and
// an unset dir all fail.
func openFile(dir, urlPath string, policy cachePolicy) (fileResponse, error) {
	if strings.TrimSpace(dir) == "" {
		return fileResponse{}, fs.ErrNotExist
	}
	rel, err := fsutil.CleanFSPath(urlPath)
	if err != nil {
		return fileResponse{}, err
	}
	if rel == "." {
		return fileResponse{}, errNotRegularFile
	}

	file, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return fileResponse{}, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fileResponse{}, err
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return fileResponse{}, errNotRegularFile
	}
	return fileResponse{file: file, info: info, policy: policy}, nil
}

// write sends the file. Conditional requests are answered by
// http.ServeContent against the Etag header set here.
func (response fileResponse) write(w http.ResponseWriter, r *http.Request) {
	defer response.file.Close()

	headers := w.Header()
	switch response.policy {
	case cacheETag:
		headers.Set("Etag", freshness.ETag(freshness.FromInfo(response.info)))
	case cacheImmutable:
		headers.Set("Cache-Control", cacheControlImmutable)
	}
	http.ServeContent(w, r, response.info.Name(), response.info.ModTime(), response.file)
}

// fileHandler serves one directory mount. prefix is stripped from the
// request path before it is resolved under dir.
type fileHandler struct {
	dir    string
	prefix string
	policy cachePolicy
	logger *logging.Logger
}

func (h *fileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := strings.TrimPrefix(r.URL.Path, h.prefix)
	response, err := openFile(h.dir, urlPath, h.policy)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, errNotRegularFile) {
			h.logger.Debug("file unavailable", map[string]string{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
		}
		http.NotFound(w, r)
		return
	}
	response.write(w, r)
}
