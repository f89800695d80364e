package executor

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/caffeineduck/pyhost/hostfunc"
)

//go:generate go run ../internal/tools/download https://github.com/vmware-labs/webassembly-language-runtimes/releases/download/python%2F3.12.0%2B20231211-040d5a6/python-3.12.0.wasm testdata/python.wasm
//go:generate env GOOS=wasip1 GOARCH=wasm go build -o testdata/mock.wasm ./testdata/mock.go

// PythonModuleEnv names the environment variable tests read the interpreter
// binary path from.
const PythonModuleEnv = "PYHOST_PYTHON_WASM"

var (
	testExecutor     *Executor
	testExecutorOnce sync.Once
	testExecutorErr  error
)

// GetTestExecutor returns an executor shared by tests so each module is
// compiled once per test binary.
func GetTestExecutor() (*Executor, error) {
	testExecutorOnce.Do(func() {
		testExecutor, testExecutorErr = New(hostfunc.NewRegistry())
	})
	return testExecutor, testExecutorErr
}

// CloseTestExecutor closes the shared test executor.
func CloseTestExecutor() {
	if testExecutor != nil {
		testExecutor.Close()
		testExecutor = nil
		testExecutorOnce = sync.Once{}
	}
}

// TestPythonModule returns the interpreter binary used by integration tests:
// $PYHOST_PYTHON_WASM, else python.wasm in dir. ok is false when neither
// exists.
func TestPythonModule(dir string) (Module, bool) {
	path := os.Getenv(PythonModuleEnv)
	if path == "" {
		path = filepath.Join(dir, "python.wasm")
	}
	wasm, err := os.ReadFile(path)
	if err != nil {
		return Module{}, false
	}
	return ModuleBytes(path, wasm), true
}
