package server

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	// Route limits are covered in the middleware package.
	os.Setenv("APP_ENV", "test")
	os.Exit(m.Run())
}
