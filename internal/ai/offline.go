package ai

import (
	"fmt"
	"strings"
)

// Offline chat answers, matched by substring in this order.
var offlineChat = []struct{ key, answer string }{
	{"bot", "Haii, aku adalah Zideebot. Ada yang bisa aku bantu?"},
	{"siapa", "🤖 Saya adalah bot WhatsApp dengan AI Gemini. Saya bisa chat, buat pantun, terjemahan, dan banyak lagi!"},
	{"apa kabar", "😊 Kabar baik! Saya siap membantu Anda hari ini. Ada yang mau ditanyakan?"},
	{"terima kasih", "🙏 Sama-sama! Senang bisa membantu. Ada lagi yang bisa saya bantu?"},
	{"bye", "👋 Sampai jumpa! Jangan ragu untuk chat lagi ya."},
	{"help", "🆘 Saya bisa bantu dengan: chat umum, buat pantun, terjemahan, tips, motivasi, dan banyak lagi!"},
}

const offlineChatDefault = `🤖 **AI Bot** *(Offline Mode)*

Maaf, saya dalam mode offline. Untuk percakapan AI yang lebih canggih, silakan setup Gemini API key di file .env.

📝 **Yang bisa saya bantu offline:**
• Chat sederhana
• Pantun offline
• Tips umum

💡 **Setup Gemini API untuk fitur lengkap!**`

// OfflineChat answers from the built-in table.
func OfflineChat(message string) string {
	lower := strings.ToLower(message)
	for _, r := range offlineChat {
		if strings.Contains(lower, r.key) {
			return "🤖 **AI Bot** *(Offline Mode)*\n\n" + r.answer +
				"\n\n💡 *Untuk fitur AI lengkap, setup Gemini API key di .env*"
		}
	}
	return offlineChatDefault
}

// OfflineCreative returns a fixed piece for the known kinds.
func OfflineCreative(topic, kind string) string {
	switch kind {
	case "pantun":
		return fmt.Sprintf(`Pantun tentang %s (offline):

Di pasar beli pisang raja
Jangan lupa beli pepaya
%s memang bisa bikin kacau
Tapi hidup tetap harus fun selalu! 🎉

💡 *Setup Gemini API di .env untuk pantun yang lebih kreatif!*`, topic, topic)
	case "motivasi":
		return fmt.Sprintf(`💪 **Motivasi tentang %s:**

"Setiap langkah kecil menuju %s adalah kemajuan besar. Jangan pernah menyerah, karena kesuksesan dimulai dari keberanian untuk mencoba!"

✨ *Setup Gemini AI di .env untuk motivasi yang lebih personal!*`, topic, topic)
	case "tips":
		return fmt.Sprintf(`💡 **Tips tentang %s:**

1. Mulai dari hal kecil
2. Konsisten adalah kunci
3. Jangan takut untuk belajar
4. Minta bantuan jika perlu
5. Rayakan setiap progress

🚀 *Setup Gemini API di .env untuk tips yang lebih detail!*`, topic)
	}
	return fmt.Sprintf("✨ Ide kreatif tentang %s memerlukan Gemini AI. Setup API key di .env untuk fitur lengkap!", topic)
}

var offlineTranslations = map[string]map[string]string{
	"halo":         {"english": "Hello", "japanese": "Konnichiwa", "korean": "Annyeong"},
	"terima kasih": {"english": "Thank you", "japanese": "Arigato", "korean": "Gamsahamnida"},
	"selamat pagi": {"english": "Good morning", "japanese": "Ohayo", "korean": "Joeun achim"},
}

const offlineTranslateDefault = `🌐 **Terjemahan**

Maaf, terjemahan offline terbatas. Setup Gemini API key di file .env untuk terjemahan yang lebih akurat dan lengkap!

📝 **Yang tersedia offline:**
• halo, terima kasih, selamat pagi
• Bahasa: English, Japanese, Korean`

// OfflineTranslate looks text up in the small phrase table.
func OfflineTranslate(text, lang string) string {
	lang = strings.ToLower(lang)
	if t, ok := offlineTranslations[strings.ToLower(strings.TrimSpace(text))][lang]; ok {
		return fmt.Sprintf("🌐 **Terjemahan** *(Offline)*\n\n**Original:** %s\n**%s:** %s\n\n💡 *Setup Gemini API di .env untuk terjemahan yang lebih lengkap!*",
			text, lang, t)
	}
	return offlineTranslateDefault
}

const msgKeyError = `❌ **API Key Error**

🔑 API key tidak valid atau belum diatur.

📝 **Cara setup:**
1. Buka https://aistudio.google.com
2. Dapatkan API key gratis
3. Update GEMINI_API_KEY di file .env
4. Restart bot

💡 **Sementara ini gunakan mode offline.**`

const msgRateLimited = `⏱️ **Rate Limit Exceeded**

🚦 Terlalu banyak request ke AI API.

⏰ **Tunggu sebentar dan coba lagi.**
💡 **Atau gunakan mode offline sementara.**`

const msgGenericError = `❌ **Error AI Response**

Kemungkinan penyebab:
• Koneksi internet bermasalah
• API rate limit exceeded
• Server AI sedang maintenance

🔄 Coba lagi dalam beberapa menit.`
