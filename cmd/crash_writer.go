package cmd

import (
	"os"
)

// CrashWriter appends crash reports to a fixed file, opening it fresh on
// every write since recoverToCrashFile may invoke it long after normal log
// file handles have been abandoned during a panic unwind.
type CrashWriter struct {
	fileName string
}

func (w *CrashWriter) Write(p []byte) (n int, err error) {
	f, err := os.OpenFile(w.fileName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	n, err = f.Write(p)

	return
}
