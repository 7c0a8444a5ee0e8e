// SPDX-License-Identifier: Apache-2.0

package main

/*
#cgo CFLAGS: -I.
#include <stdlib.h>
*/
import "C"

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"unsafe"

	"gonum.org/v1/gonum/mat"

	"github.com/tarstars/bayes_additive_trees/btl"
)

var (
	handleMu   sync.Mutex
	nextHandle uint64 = 1
	runners           = make(map[uint64]*btl.Runner)

	lastErrorMu sync.Mutex
	lastError   string

	logSilenceOnce sync.Once
)

func setLastError(err error) {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	if err != nil {
		lastError = err.Error()
	} else {
		lastError = ""
	}
}

func getLastError() string {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	return lastError
}

func storeRunner(r *btl.Runner) uint64 {
	handleMu.Lock()
	defer handleMu.Unlock()
	handle := nextHandle
	runners[handle] = r
	nextHandle++
	return handle
}

func fetchRunner(handle uint64) (*btl.Runner, error) {
	handleMu.Lock()
	defer handleMu.Unlock()
	runner, ok := runners[handle]
	if !ok {
		return nil, errors.New("invalid runner handle")
	}
	return runner, nil
}

//export FreeRun
func FreeRun(handle C.ulonglong) {
	handleMu.Lock()
	defer handleMu.Unlock()
	delete(runners, uint64(handle))
}

func copyFloatSlice(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	src := unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length)
	dst := make([]float64, length)
	copy(dst, src)
	return dst, nil
}

func sliceFromPtr(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length), nil
}

func buildDense(ptr *C.double, rows, cols C.int) (*mat.Dense, error) {
	r := int(rows)
	c := int(cols)
	if r <= 0 || c <= 0 {
		return nil, errors.New("invalid matrix dimensions")
	}
	data, err := copyFloatSlice(ptr, r*c)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(r, c, data), nil
}

//export NewRun
func NewRun(configJSON *C.char) C.ulonglong {
	setLastError(nil)
	logSilenceOnce.Do(func() {
		log.SetOutput(io.Discard)
	})

	var config btl.Config
	if err := json.Unmarshal([]byte(C.GoString(configJSON)), &config); err != nil {
		setLastError(err)
		return 0
	}
	runner, err := btl.NewRunner(config)
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.ulonglong(storeRunner(runner))
}

//export LoadTrain
func LoadTrain(
	handle C.ulonglong,
	covariatesPtr *C.double,
	rows C.int,
	cols C.int,
	outcomePtr *C.double,
	kindsPtr *C.int,
) C.int {
	setLastError(nil)
	runner, err := fetchRunner(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}

	covariates, err := buildDense(covariatesPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 2
	}
	outcome, err := copyFloatSlice(outcomePtr, int(rows))
	if err != nil {
		setLastError(err)
		return 3
	}

	kinds := make([]btl.FeatureKind, int(cols))
	if kindsPtr != nil {
		rawKinds := unsafe.Slice((*int32)(unsafe.Pointer(kindsPtr)), int(cols))
		for j, k := range rawKinds {
			kinds[j] = btl.FeatureKind(k)
		}
	}

	if err := runner.LoadTrain(covariates, outcome, kinds); err != nil {
		setLastError(err)
		return 4
	}
	return 0
}

//export LoadPredict
func LoadPredict(
	handle C.ulonglong,
	covariatesPtr *C.double,
	rows C.int,
	cols C.int,
) C.int {
	setLastError(nil)
	runner, err := fetchRunner(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	covariates, err := buildDense(covariatesPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 2
	}
	if err := runner.LoadPredict(covariates); err != nil {
		setLastError(err)
		return 3
	}
	return 0
}

//export RunSampler
func RunSampler(handle C.ulonglong) C.int {
	setLastError(nil)
	runner, err := fetchRunner(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := runner.Run(); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export PredictSamples
func PredictSamples(handle C.ulonglong, outputPtr *C.double, outputLen C.int) C.int {
	setLastError(nil)
	runner, err := fetchRunner(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	prediction, err := runner.Predict()
	if err != nil {
		setLastError(err)
		return 2
	}
	outSlice, err := sliceFromPtr(outputPtr, int(outputLen))
	if err != nil {
		setLastError(err)
		return 3
	}
	if len(outSlice) < len(prediction) {
		setLastError(errors.New("output buffer is too small"))
		return 4
	}
	copy(outSlice, prediction)
	return 0
}

//export SaveDraw
func SaveDraw(handle C.ulonglong, drawID C.int, path *C.char) C.int {
	setLastError(nil)
	runner, err := fetchRunner(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := runner.SaveDraw(int(drawID), C.GoString(path)); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export GetLastError
func GetLastError() *C.char {
	errStr := getLastError()
	if errStr == "" {
		return nil
	}
	return C.CString(errStr)
}

//export FreeCString
func FreeCString(str *C.char) {
	if str != nil {
		C.free(unsafe.Pointer(str))
	}
}

func main() {}
