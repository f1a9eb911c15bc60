package audio

// FrameAssembler re-frames arbitrarily sized PCM chunks into fixed-size frames.
// It is a ring buffer owned by one playback goroutine, so it carries no lock.
type FrameAssembler struct {
	buffer    []byte
	size      int
	read      int
	write     int
	frameSize int
}

// NewFrameAssembler creates an assembler emitting frames of frameSize bytes.
// Capacity is rounded up so that at least two frames fit.
func NewFrameAssembler(frameSize, capacity int) *FrameAssembler {
	if capacity < frameSize*2 {
		capacity = frameSize * 2
	}
	// One slot stays empty to tell full from empty
	size := capacity + 1
	return &FrameAssembler{
		buffer:    make([]byte, size),
		size:      size,
		frameSize: frameSize,
	}
}

// Write copies as much of data as fits and returns the number of bytes taken
func (a *FrameAssembler) Write(data []byte) int {
	written := 0
	for written < len(data) && a.Space() > 0 {
		// Copy the contiguous run up to the end of the backing array or the read position
		end := a.size
		if a.read > a.write {
			end = a.read - 1
		} else if a.read == 0 {
			end = a.size - 1
		}
		n := copy(a.buffer[a.write:end], data[written:])
		written += n
		a.write = (a.write + n) % a.size
	}
	return written
}

// Next removes and returns one full frame, if available
func (a *FrameAssembler) Next() ([]byte, bool) {
	if a.Available() < a.frameSize {
		return nil, false
	}
	frame := make([]byte, a.frameSize)
	a.readInto(frame)
	return frame, true
}

// Flush returns the next buffered frame, padding a final partial frame with silence.
// Call it until it reports false to drain the assembler.
func (a *FrameAssembler) Flush() ([]byte, bool) {
	n := a.Available()
	if n == 0 {
		return nil, false
	}
	if n >= a.frameSize {
		return a.Next()
	}
	frame := make([]byte, a.frameSize)
	a.readInto(frame[:n])
	return frame, true
}

// Frames feeds data through the assembler and calls emit for every completed frame.
// Bytes short of a full frame stay buffered for the next call or for Flush.
func (a *FrameAssembler) Frames(data []byte, emit func([]byte) error) error {
	for len(data) > 0 {
		n := a.Write(data)
		data = data[n:]
		for {
			frame, ok := a.Next()
			if !ok {
				break
			}
			if err := emit(frame); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *FrameAssembler) readInto(p []byte) {
	for i := range p {
		p[i] = a.buffer[a.read]
		a.read = (a.read + 1) % a.size
	}
}

// Available returns the number of bytes available to read
func (a *FrameAssembler) Available() int {
	if a.write >= a.read {
		return a.write - a.read
	}
	return a.size - a.read + a.write
}

// Space returns the number of bytes available to write
func (a *FrameAssembler) Space() int {
	return a.size - a.Available() - 1
}

// Reset drops any buffered bytes
func (a *FrameAssembler) Reset() {
	a.read = 0
	a.write = 0
}
