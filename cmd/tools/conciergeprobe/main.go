package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/glamour"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/islandproperties/concierge/backend/internal/config"
	"github.com/islandproperties/concierge/backend/internal/model/chat"
	speechmodel "github.com/islandproperties/concierge/backend/internal/model/speech"
	"github.com/islandproperties/concierge/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	mode := flag.String("mode", "", "probe mode: chat or tts")
	server := flag.String("server", "http://localhost:8080", "concierge base URL (chat mode)")
	personaID := flag.String("persona", "yuna", "persona id (chat mode)")
	message := flag.String("message", "", "visitor message (chat mode)")
	listing := flag.String("listing", "", "property context passed with the message (chat mode)")
	text := flag.String("text", "", "text to synthesize (tts mode)")
	voice := flag.String("voice", "", "voice id, defaults to the configured one (tts mode)")
	outputPath := flag.String("out", "", "output audio file (tts mode)")
	session := flag.String("session", "", "session id, generated when empty")
	raw := flag.Bool("raw", false, "print deltas without markdown rendering")
	timeout := flag.Duration("timeout", 45*time.Second, "request timeout")

	flag.Parse()

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("probe-%d", time.Now().UnixNano())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "chat":
		runChat(ctx, *server, *personaID, sessionID, *message, *listing, *raw)
	case "tts":
		runTTS(ctx, sessionID, *text, *voice, *outputPath)
	default:
		flag.Usage()
		log.Fatal("use -mode=chat or -mode=tts")
	}
}

func runChat(ctx context.Context, server, personaID, sessionID, message, listing string, raw bool) {
	if strings.TrimSpace(message) == "" {
		log.Fatal("chat mode needs -message")
	}

	body, err := sonic.ConfigStd.Marshal(chat.Request{
		Message:         message,
		SessionID:       sessionID,
		PropertyContext: listing,
	})
	if err != nil {
		log.Fatalf("marshal request: %v", err)
	}

	url := strings.TrimRight(server, "/") + "/api/" + personaID + "/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("chat request failed: %v", err)
	}
	defer resp.Body.Close()

	log.Printf("session=%s status=%d content-type=%s", sessionID, resp.StatusCode, resp.Header.Get("Content-Type"))

	var reply string
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		var failed bool
		reply, failed, err = readStream(resp.Body, func(delta string) {
			if raw {
				fmt.Print(delta)
			}
		})
		if err != nil {
			log.Fatalf("read stream: %v", err)
		}
		if raw {
			fmt.Println()
		}
		if failed {
			log.Printf("stream ended with an upstream error")
		}
	} else {
		var out chat.Reply
		if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&out); err != nil {
			log.Fatalf("decode reply: %v", err)
		}
		reply = out.Reply
		log.Printf("reply flags: rateLimited=%t circuitOpen=%t filtered=%t remaining=%v",
			out.RateLimited, out.CircuitOpen, out.Filtered, remaining(out.RemainingMessages))
		if raw {
			fmt.Println(reply)
		}
	}

	if !raw {
		fmt.Print(render(reply))
	}
}

func runTTS(ctx context.Context, sessionID, text, voice, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("tts mode needs -text")
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if !cfg.Speech.Enabled {
		log.Fatal("speech is not configured, set ELEVENLABS_API_KEY or SPEECH_APP_ID/SPEECH_ACCESS_TOKEN")
	}

	synth, err := speech.NewSynthesizer(cfg.Speech.Model())
	if err != nil {
		log.Fatalf("failed to initialize speech: %v", err)
	}

	if voice == "" {
		voice = cfg.Speech.Voice
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.mp3", time.Now().Unix())
	}

	log.Printf("synthesizing with %s: session=%s voice=%s", synth.Name(), sessionID, voice)

	resp, err := synth.Synthesize(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Format:    "mp3",
		Language:  cfg.Speech.Language,
	})
	if err != nil {
		log.Fatalf("synthesis failed: %v", err)
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatalf("write audio: %v", err)
	}
	log.Printf("wrote %d bytes to %s (duration %dms)", len(resp.AudioData), outputPath, resp.Duration)
}

func render(markdown string) string {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		width = w
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return markdown + "\n"
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		return markdown + "\n"
	}
	return out
}

func remaining(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprint(*n)
}
