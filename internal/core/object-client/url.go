package objectclient

import (
	"fmt"
	"strings"
)

// ObjectURL builds the virtual-hosted style URL of an object.
func ObjectURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// ParseObjectURL extracts the bucket and key from a virtual-hosted style S3 URL.
// Example: https://my-bucket.s3.us-east-2.amazonaws.com/path/to/table.json
func ParseObjectURL(u string) (bucket, key string) {
	hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
	host := hostPath[0]
	if len(hostPath) == 2 {
		key = hostPath[1]
	}
	bucket, _, _ = strings.Cut(host, ".")
	return bucket, key
}
