package event

import (
	"net/url"
	"strings"

	"github.com/yairfalse/scantag/pkg/object"
)

// Location resolves the scanned object from container/object_name, or from
// file_url/blob_url. For S3 URLs whose path is empty the key falls back to the
// scanner's fileName.
func (m Message) Location() (object.Location, error) {
	if m.Container != "" || m.ObjectName != "" {
		loc := object.Location{Store: m.Container, Key: m.ObjectName}
		if !loc.Valid() {
			return object.Location{}, malformed("container and object_name must both be set")
		}
		return loc, nil
	}

	raw := m.FileURL
	if raw == "" {
		raw = m.BlobURL
	}
	if raw == "" {
		return object.Location{}, malformed("no file_url, blob_url or container/object_name")
	}

	fileName := ""
	if m.ScanningResult != nil {
		fileName = m.ScanningResult.FileName
	}

	loc, err := ParseURL(raw, fileName)
	if err != nil {
		return object.Location{}, err
	}
	return loc, nil
}

// ParseURL turns an object URL into a Location. Supported forms:
//
//	s3://bucket/key
//	gs://bucket/key
//	https://bucket.s3[.region].amazonaws.com/key
//	https://s3[.region].amazonaws.com/bucket/key
//	https://account.blob.core.windows.net/container/blob
func ParseURL(raw, fileName string) (object.Location, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return object.Location{}, malformed("bad object url: " + err.Error())
	}

	path := strings.TrimPrefix(u.Path, "/")
	host := strings.ToLower(u.Hostname())

	var loc object.Location
	switch {
	case u.Scheme == "s3" || u.Scheme == "gs":
		loc = object.Location{Store: u.Host, Key: path}

	case strings.HasSuffix(host, ".blob.core.windows.net"):
		loc = splitFirst(path)

	case isPathStyleS3(host):
		loc = splitFirst(path)

	case host != "":
		loc = object.Location{Store: virtualHostBucket(host), Key: path}

	default:
		return object.Location{}, malformed("unsupported object url " + raw)
	}

	if loc.Key == "" {
		loc.Key = fileName
	}
	if !loc.Valid() {
		return object.Location{}, malformed("object url " + raw + " does not name an object")
	}
	return loc, nil
}

func isPathStyleS3(host string) bool {
	return strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-") || host == "s3.amazonaws.com"
}

// virtualHostBucket returns everything before the S3 endpoint suffix, so
// dotted bucket names survive. Other hosts yield their first label.
func virtualHostBucket(host string) string {
	cut := max(strings.LastIndex(host, ".s3."), strings.LastIndex(host, ".s3-"))
	if cut > 0 && strings.HasSuffix(host, ".amazonaws.com") {
		return host[:cut]
	}
	return strings.SplitN(host, ".", 2)[0]
}

func splitFirst(path string) object.Location {
	store, key, _ := strings.Cut(path, "/")
	return object.Location{Store: store, Key: key}
}
