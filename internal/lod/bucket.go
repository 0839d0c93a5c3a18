package lod

// Bucket names a discrete level of detail.
type Bucket string

const (
	Coarse Bucket = "coarse"
	Low    Bucket = "low"
	Medium Bucket = "medium"
	High   Bucket = "high"
	Max    Bucket = "max"
)

// Buckets lists every bucket, coarsest first.
var Buckets = []Bucket{Coarse, Low, Medium, High, Max}

// percentile of point importance below which points are dropped.
var percentiles = map[Bucket]float64{
	Coarse: 80,
	Low:    60,
	Medium: 40,
	High:   20,
	Max:    0,
}

// BucketFor maps a map resolution in meters per pixel to a bucket.
func BucketFor(resolution float64) Bucket {
	switch {
	case resolution > 7500:
		return Coarse
	case resolution > 5000:
		return Low
	case resolution > 2500:
		return Medium
	case resolution > 1000:
		return High
	default:
		return Max
	}
}

// ParseBucket returns the bucket named s.
func ParseBucket(s string) (Bucket, bool) {
	for _, b := range Buckets {
		if string(b) == s {
			return b, true
		}
	}
	return "", false
}
