// Package audio plays encoded line audio on the system output device. MPEG
// and WAV payloads are decoded with beep and streamed to oto as 16-bit PCM.
package audio
