package chat

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/voxlink/voxlink/internal/convo"
)

// RuleReplier is a keyword-matching replier used when no language model is
// configured or reachable. Replies are Traditional Chinese, short enough to
// speak comfortably.
type RuleReplier struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewRuleReplier() *RuleReplier {
	return &RuleReplier{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

var (
	greetingWords = []string{"你好", "哈囉", "嗨", "hello", "hi"}
	weatherWords  = []string{"天氣", "氣溫", "下雨", "晴天"}
	timeWords     = []string{"時間", "幾點", "現在"}
	identityWords = []string{"你是誰", "自我介紹", "你叫什麼"}
	abilityWords  = []string{"功能", "能做什麼", "會什麼"}
	farewellWords = []string{"再見", "掰掰", "拜拜", "bye", "goodbye"}
	thanksWords   = []string{"謝謝", "感謝", "thanks", "thank you"}

	greetingReplies = []string{
		"你好！很高興跟你聊天！有什麼我可以幫助你的嗎？",
		"嗨！我是你的語音助理，有什麼想聊的嗎？",
		"哈囉！今天過得如何？",
	}
	defaultReplies = []string{
		"你說「%s」，這很有趣！可以告訴我更多嗎？",
		"關於「%s」這個話題，我想了解你的想法。",
		"這個問題很棒！雖然我還在學習中，但我很願意跟你討論。",
		"有趣的觀點！你可以再詳細說明一下嗎？",
		"我正在思考你的話。可以換個方式問問看嗎？",
	}
)

func (r *RuleReplier) Reply(_ context.Context, message string, _ []convo.Turn) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(message))

	switch {
	case containsAny(lowered, greetingWords):
		return r.pick(greetingReplies), nil
	case containsAny(lowered, weatherWords):
		return "我無法查詢即時天氣，但建議你可以查看氣象局或天氣 App 獲得最準確的資訊喔！", nil
	case containsAny(lowered, timeWords):
		return fmt.Sprintf("現在是 %s。", r.now().Format("2006年01月02日 15點04分")), nil
	case containsAny(lowered, identityWords):
		return "我是一個語音對話機器人，可以跟你聊天、回答問題。我支援語音輸入和語音回覆，讓對話更自然！", nil
	case containsAny(lowered, abilityWords):
		return "我可以聽懂你的語音並轉成文字、跟你聊天對話、把回覆用語音唸出來，還會記住我們的對話內容。還有什麼想知道的嗎？", nil
	case containsAny(lowered, farewellWords):
		return "再見！很高興跟你聊天，期待下次見面！", nil
	case containsAny(lowered, thanksWords):
		return "不客氣！很高興能幫到你！還有其他需要協助的嗎？", nil
	default:
		reply := r.pick(defaultReplies)
		if strings.Contains(reply, "%s") {
			reply = fmt.Sprintf(reply, strings.TrimSpace(message))
		}
		return reply, nil
	}
}

func (r *RuleReplier) Ready() bool { return true }

func (r *RuleReplier) pick(options []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return options[r.rng.Intn(len(options))]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
