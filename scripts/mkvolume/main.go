// mkvolume generates a synthetic dataset for developing against voxprep:
// per subject, a spherical phantom in one or more modalities plus a
// matching label volume, and a manifest CSV pointing at them.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"voxprep/internal/codec"
	"voxprep/internal/tensor"
)

func main() {
	out := flag.String("out", "testdata", "output directory")
	subjects := flag.Int("subjects", 3, "number of subjects")
	size := flag.Int("size", 32, "cubic volume edge length")
	modalities := flag.String("modalities", "t1,t2", "comma-separated modality names")
	seed := flag.Uint64("seed", 7, "generator seed")
	flag.Parse()

	if err := run(*out, *subjects, *size, strings.Split(*modalities, ","), *seed); err != nil {
		log.Fatal(err)
	}
}

func run(out string, subjects, size int, modalities []string, seed uint64) error {
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	rng := randv2.New(randv2.NewPCG(seed, seed))
	dims := [3]int{size, size, size}

	header := []string{"SubjectID"}
	header = append(header, modalities...)
	header = append(header, "Label")
	records := [][]string{header}

	for s := 0; s < subjects; s++ {
		id := fmt.Sprintf("phantom-%03d", s+1)
		center := [3]float64{
			float64(size)/2 + (rng.Float64()-0.5)*float64(size)/4,
			float64(size)/2 + (rng.Float64()-0.5)*float64(size)/4,
			float64(size)/2 + (rng.Float64()-0.5)*float64(size)/4,
		}
		radius := float64(size) / 5 * (0.8 + rng.Float64()*0.4)

		rec := []string{id}
		for _, m := range modalities {
			v := tensor.MustNew[float32](dims)
			v.SetSpacing([3]float64{1, 1, 1})
			fillSphere(v, center, radius, rng)
			name := fmt.Sprintf("%s_%s.vxr", id, m)
			if err := codec.WriteImage(filepath.Join(out, name), v); err != nil {
				return err
			}
			rec = append(rec, name)
		}

		lab := tensor.MustNew[int32](dims)
		for z := 0; z < size; z++ {
			for y := 0; y < size; y++ {
				for x := 0; x < size; x++ {
					if dist(x, y, z, center) <= radius {
						lab.Set(x, y, z, 1)
					}
				}
			}
		}
		labName := id + "_seg.vxr"
		if err := codec.WriteLabel(filepath.Join(out, labName), lab); err != nil {
			return err
		}
		rec = append(rec, labName)
		records = append(records, rec)
	}

	f, err := os.Create(filepath.Join(out, "data.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return err
	}
	fmt.Printf("mkvolume: wrote %d subjects under %s\n", subjects, out)
	return nil
}

func fillSphere(v *tensor.Volume[float32], center [3]float64, radius float64, rng *randv2.Rand) {
	dims := v.Dims()
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				d := dist(x, y, z, center)
				if d <= radius {
					// bright interior falling off toward the rim
					v.Set(x, y, z, float32(1000*(1-d/radius)+rng.Float64()*50))
				}
			}
		}
	}
}

func dist(x, y, z int, c [3]float64) float64 {
	dx := float64(x) - c[0]
	dy := float64(y) - c[1]
	dz := float64(z) - c[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
