package api

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// assetTypes are the media files the asset endpoint lists and serves.
var assetTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// Assets serves GET /v1/assets?path=...&action=serve|list. Paths must resolve
// inside one of the configured asset bases; relative paths are taken from the
// workspace root.
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "PATH_REQUIRED", "path is required")
		return
	}
	path, ok := h.allowedAssetPath(raw)
	if !ok {
		h.writeError(w, http.StatusForbidden, "PATH_NOT_ALLOWED", "path is outside the asset directories")
		return
	}

	switch action := r.URL.Query().Get("action"); action {
	case "list":
		h.listAssets(w, path)
	case "", "serve":
		h.serveAsset(w, r, path)
	default:
		h.writeError(w, http.StatusBadRequest, "INVALID_ACTION", fmt.Sprintf("unknown action %q", action))
	}
}

// allowedAssetPath cleans raw and checks it against the asset bases, both as
// written and with symlinks resolved.
func (h *Handler) allowedAssetPath(raw string) (string, bool) {
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.config.Workspace.Root, path)
	}
	path = filepath.Clean(path)

	if !h.withinAssetBases(path) {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil && !h.withinAssetBases(resolved) {
		return "", false
	}
	return path, true
}

func (h *Handler) withinAssetBases(path string) bool {
	for _, base := range h.config.Workspace.AssetBases {
		base = filepath.Clean(base)
		if resolved, err := filepath.EvalSymlinks(base); err == nil && within(resolved, path) {
			return true
		}
		if within(base, path) {
			return true
		}
	}
	return false
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// listAssets returns the media files directly inside dir. A missing path or a
// plain file yields an empty list.
func (h *Handler) listAssets(w http.ResponseWriter, dir string) {
	files := []AssetFileDTO{}
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) && !isNotDir(err) {
		h.writeError(w, http.StatusInternalServerError, "ASSET_LIST_FAILED", err.Error())
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := assetTypes[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		full := filepath.Join(dir, e.Name())
		files = append(files, AssetFileDTO{
			Name: e.Name(),
			Path: full,
			URL:  "/v1/assets?path=" + url.QueryEscape(full),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	h.writeJSON(w, http.StatusOK, AssetListDTO{Files: files})
}

func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

func (h *Handler) serveAsset(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			h.writeError(w, http.StatusNotFound, "FILE_NOT_FOUND", "file not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "ASSET_READ_FAILED", err.Error())
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "ASSET_READ_FAILED", err.Error())
		return
	}
	if info.IsDir() {
		h.writeError(w, http.StatusBadRequest, "IS_DIRECTORY", "cannot serve a directory")
		return
	}

	ctype, ok := assetTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": info.Name()}))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
