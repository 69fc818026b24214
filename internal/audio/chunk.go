package audio

// Chunk is a contiguous buffer of PCM in the pipeline's desired format,
// tagged with its start timestamp (microseconds from track origin) and
// whether it was produced by a seek.
type Chunk struct {
	Data           []byte
	StartMicros    int64
	FromSeek       bool
}

// Len reports the byte length of the chunk's data.
func (c Chunk) Len() int { return len(c.Data) }
