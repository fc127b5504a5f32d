package s3

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://logs/2024/app.json", "logs", "2024/app.json", false},
		{"s3://logs/", "logs", "", false},
		{"s3://logs", "logs", "", false},
		{"s3:///key", "", "", true},
		{"/tmp/app.json", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			bucket, key, err := ParseURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("ParseURL(%q) = (%q, %q), want (%q, %q)", tt.in, bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

func TestObjectInfoURL(t *testing.T) {
	o := ObjectInfo{Bucket: "logs", Key: "a/b.json"}
	if got := o.URL(); got != "s3://logs/a/b.json" {
		t.Errorf("URL() = %q", got)
	}
}
