package process

import "os"

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

func errProcessDone() error { return os.ErrProcessDone }
