// backend_test.go - Tests fuer das emulierte Backend
package emulator

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ollama/kvworker/ml"
)

func newBackend(t *testing.T, limit uint64) *Backend {
	t.Helper()
	t.Setenv("OLLAMA_EMULATOR_MEMORY", "1073741824")

	b, err := ml.NewBackend(Kind, ml.BackendParams{DeviceID: "0", MemoryLimit: limit})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(b.Close)
	return b.(*Backend)
}

// TestDevices prueft die Geraete-Aufzaehlung
func TestDevices(t *testing.T) {
	t.Setenv("OLLAMA_EMULATOR_MEMORY", "4096")

	devices := ml.Devices(Kind)
	if len(devices) != 1 {
		t.Fatalf("Devices: erwartet 1 Geraet, bekommen %d", len(devices))
	}

	d := devices[0]
	if d.ID != "0" || d.Library != Kind || d.TotalMemory != 4096 {
		t.Errorf("Devices()[0] = %+v", d)
	}
}

// TestNewUnknownDevice prueft die Ablehnung unbekannter Geraete-IDs
func TestNewUnknownDevice(t *testing.T) {
	if _, err := ml.NewBackend(Kind, ml.BackendParams{DeviceID: "7"}); err == nil {
		t.Error("NewBackend mit unbekannter ID: Fehler erwartet")
	}
}

// TestZeros prueft Form, Groesse und Null-Initialisierung
func TestZeros(t *testing.T) {
	b := newBackend(t, 0)

	tensor, err := b.Zeros(ml.DTypeF16, 2, 3, 4)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]int{2, 3, 4}, tensor.Shape()); diff != "" {
		t.Errorf("Shape mismatch (-want +got):\n%s", diff)
	}
	if tensor.NBytes() != 2*3*4*2 {
		t.Errorf("NBytes = %d, erwartet %d", tensor.NBytes(), 2*3*4*2)
	}
	for i, f := range tensor.Floats() {
		if f != 0 {
			t.Fatalf("Element %d = %v, erwartet 0", i, f)
		}
	}

	if got := b.BackendMemory().Size(); got != 48 {
		t.Errorf("BackendMemory().Size() = %d, erwartet 48", got)
	}
	if free := b.Device().FreeMemory; free != 1<<30-48 {
		t.Errorf("FreeMemory = %d, erwartet %d", free, 1<<30-48)
	}
}

// TestZerosNoMem prueft die erzwungene Kapazitaet
func TestZerosNoMem(t *testing.T) {
	b := newBackend(t, 100)

	first, err := b.Zeros(ml.DTypeF32, 20)
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.Zeros(ml.DTypeF32, 10)
	var noMem ml.ErrNoMem
	if !errors.As(err, &noMem) {
		t.Fatalf("Zeros ueber Kapazitaet: ErrNoMem erwartet, bekommen %v", err)
	}
	if noMem.Requested != 40 {
		t.Errorf("ErrNoMem.Requested = %d, erwartet 40", noMem.Requested)
	}

	b.Release(first)
	if _, err := b.Zeros(ml.DTypeF32, 10); err != nil {
		t.Errorf("Zeros nach Release: %v", err)
	}
}

// TestZerosOverflow prueft, dass eine nicht darstellbare Groesse nicht als
// leerer Tensor durchrutscht
func TestZerosOverflow(t *testing.T) {
	b := newBackend(t, 0)

	tensor, err := b.Zeros(ml.DTypeF16, 2, 1<<60, 4, 8)
	if tensor != nil {
		t.Errorf("Zeros mit Ueberlauf: kein Tensor erwartet, bekommen %v", tensor.Shape())
	}

	var noMem ml.ErrNoMem
	if !errors.As(err, &noMem) {
		t.Fatalf("Zeros mit Ueberlauf: ErrNoMem erwartet, bekommen %v", err)
	}
	if used := b.BackendMemory().Size(); used != 0 {
		t.Errorf("belegter Speicher = %d, erwartet 0", used)
	}
}

// TestZerosInvalid prueft ungueltige DTypes und Formen
func TestZerosInvalid(t *testing.T) {
	b := newBackend(t, 0)

	if _, err := b.Zeros(ml.DTypeOther, 4); err == nil {
		t.Error("Zeros mit DTypeOther: Fehler erwartet")
	}
	if _, err := b.Zeros(ml.DTypeF32, 4, -1); err == nil {
		t.Error("Zeros mit negativer Dimension: Fehler erwartet")
	}
}

// TestFloatsRoundTrip prueft die Element-Konvertierung je DType
func TestFloatsRoundTrip(t *testing.T) {
	b := newBackend(t, 0)
	values := []float32{1, -2, 0.5, 0}

	for _, dtype := range []ml.DType{ml.DTypeF32, ml.DTypeF16, ml.DTypeBF16, ml.DTypeFP8E5M2} {
		t.Run(dtype.String(), func(t *testing.T) {
			tensor, err := b.Zeros(dtype, len(values))
			if err != nil {
				t.Fatal(err)
			}

			tensor.FromFloats(values)
			if diff := cmp.Diff(values, tensor.Floats()); diff != "" {
				t.Errorf("Floats mismatch (-want +got):\n%s", diff)
			}
			if len(tensor.Bytes()) != len(values)*dtype.Size() {
				t.Errorf("Bytes: %d, erwartet %d", len(tensor.Bytes()), len(values)*dtype.Size())
			}
		})
	}
}
