package pathutil

import "testing"

func TestToRelative(t *testing.T) {
	cases := []struct {
		name    string
		abs     string
		root    string
		want    string
	}{
		{"inside root", "/home/user/project/src/main.py", "/home/user/project", "src/main.py"},
		{"outside root", "/other/location/file.py", "/home/user/project", "/other/location/file.py"},
		{"already relative", "src/main.py", "/home/user/project", "src/main.py"},
		{"empty abs", "", "/home/user/project", ""},
		{"empty root", "/home/user/project/src/main.py", "", "/home/user/project/src/main.py"},
		{"root itself", "/home/user/project", "/home/user/project", "."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ToRelative(tc.abs, tc.root)
			if got != tc.want {
				t.Errorf("ToRelative(%q, %q) = %q, want %q", tc.abs, tc.root, got, tc.want)
			}
		})
	}
}
