package dataset

import "math/rand/v2"

// Synthetic builds n 28x28 images for smoke runs without the real files.
// Digit d is drawn as a bright horizontal band starting at row 2*d, with
// light pixel noise from seed. Labels cycle through Classes.
func Synthetic(n int, seed uint64) *Dataset {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	size := Height * Width
	flat := make([]float32, n*size)
	ds := &Dataset{
		Images: make([][]float32, n),
		Labels: make([]int, n),
		Rows:   Height,
		Cols:   Width,
	}
	for i := range n {
		digit := Classes[i%len(Classes)]
		img := flat[i*size : (i+1)*size : (i+1)*size]
		for row := 2 * digit; row < 2*digit+8 && row < Height; row++ {
			for col := 5; col < 23; col++ {
				img[row*Width+col] = 0.8
			}
		}
		for j := range img {
			img[j] = min(img[j]+0.1*rng.Float32(), 1)
		}
		ds.Images[i] = img
		ds.Labels[i] = digit
	}
	return ds
}
