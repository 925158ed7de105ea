package logging

import (
	"io"
	"log"
	"os"
)

func New() *log.Logger {
	return NewWithWriter(os.Stdout)
}

func NewWithWriter(w io.Writer) *log.Logger {
	return log.New(w, "wsprobe ", log.LstdFlags|log.LUTC)
}
