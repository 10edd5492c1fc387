package server

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	if Log == nil {
		if err := InitLogger(os.DevNull); err != nil {
			panic(err)
		}
	}
	os.Exit(m.Run())
}
