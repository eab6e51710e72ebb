package image

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DumpPrefix — префикс имён сохранённых скриншотов; по нему их находит Cleaner.
const DumpPrefix = "screenshot-"

var errEmptyImage = errors.New("empty image")

// Dumper сохраняет присланные скриншоты на диск для отладки.
type Dumper struct {
	dir string
	now func() time.Time
}

func NewDumper(dir string) *Dumper {
	return &Dumper{dir: dir, now: time.Now}
}

// Dump декодирует картинку (data URL или сырой base64, считается png)
// и пишет её в <dir>/screenshot-<unixms>.<ext>, где ext — jpg, png, webp или gif. Возвращает путь к файлу.
func (d *Dumper) Dump(image string) (string, error) {
	mime, data, err := splitDataURL(image)
	if err != nil {
		return "", err
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(base64Cleaner.Replace(data), "="))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(d.dir, fmt.Sprintf("%s%d.%s", DumpPrefix, d.now().UnixMilli(), dumpExt(mime)))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var base64Cleaner = strings.NewReplacer(" ", "", "\n", "", "\r", "", "\t", "", "-", "+", "_", "/")

// dumpExt: только расширения, которые знает Cleaner; остальное пишется как png.
func dumpExt(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png", "image/webp", "image/gif":
		return strings.TrimPrefix(mime, "image/")
	default:
		return "png"
	}
}

func splitDataURL(image string) (mime, data string, err error) {
	s := strings.TrimSpace(image)
	if s == "" {
		return "", "", errEmptyImage
	}
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "image/png", s, nil
	}
	mime, data, ok = strings.Cut(rest, ";base64,")
	mime = strings.ToLower(mime)
	if !ok || data == "" || !strings.HasPrefix(mime, "image/") || strings.ContainsAny(mime, ",; ") {
		return "", "", fmt.Errorf("unsupported data url")
	}
	return mime, data, nil
}
