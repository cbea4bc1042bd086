package transcribe

// commonEnglishWords is a closed set of the highest-frequency English
// function words and common verbs/nouns, used only as a coarse
// wrong-language detector (spec §4.4). It is intentionally small: the goal
// is distinguishing "this is English prose" from "this is gibberish or a
// different language", not full lexical coverage.
var commonEnglishWords = func() map[string]bool {
	words := []string{
		"the", "a", "an", "and", "or", "but", "if", "then", "so", "because",
		"of", "to", "in", "on", "at", "by", "for", "with", "about", "against",
		"between", "into", "through", "during", "before", "after", "above",
		"below", "from", "up", "down", "out", "off", "over", "under", "again",
		"further", "once", "here", "there", "when", "where", "why", "how",
		"all", "any", "both", "each", "few", "more", "most", "other", "some",
		"such", "no", "nor", "not", "only", "own", "same", "than", "too",
		"very", "just", "i", "you", "he", "she", "it", "we", "they", "me",
		"him", "her", "us", "them", "my", "your", "his", "its", "our", "their",
		"this", "that", "these", "those", "am", "is", "are", "was", "were",
		"be", "been", "being", "have", "has", "had", "having", "do", "does",
		"did", "doing", "will", "would", "should", "could", "can", "may",
		"might", "must", "shall", "not", "what", "which", "who", "whom",
		"think", "know", "like", "want", "need", "make", "made", "go", "went",
		"going", "come", "came", "get", "got", "see", "saw", "say", "said",
		"said", "look", "looked", "use", "used", "find", "found", "give",
		"gave", "tell", "told", "work", "worked", "call", "called", "try",
		"tried", "ask", "asked", "seem", "seemed", "feel", "felt", "leave",
		"left", "put", "mean", "meant", "keep", "kept", "let", "begin",
		"began", "help", "helped", "talk", "talked", "turn", "turned", "start",
		"started", "show", "showed", "hear", "heard", "play", "played", "run",
		"ran", "move", "moved", "live", "lived", "believe", "believed",
		"bring", "brought", "happen", "happened", "write", "wrote", "provide",
		"provided", "sit", "sat", "stand", "stood", "lose", "lost", "pay",
		"paid", "meet", "met", "include", "included", "continue", "continued",
		"set", "learn", "learned", "change", "changed", "lead", "led",
		"understand", "understood", "watch", "watched", "follow", "followed",
		"stop", "stopped", "create", "created", "speak", "spoke", "read",
		"allow", "allowed", "add", "added", "spend", "spent", "grow", "grew",
		"open", "opened", "walk", "walked", "win", "won", "offer", "offered",
		"remember", "remembered", "love", "loved", "consider", "considered",
		"appear", "appeared", "buy", "bought", "wait", "waited", "serve",
		"served", "die", "died", "send", "sent", "expect", "expected",
		"build", "built", "stay", "stayed", "fall", "fell", "cut", "reach",
		"reached", "kill", "killed", "remain", "remained", "time", "year",
		"people", "way", "day", "man", "thing", "woman", "life", "child",
		"world", "school", "state", "family", "student", "group", "country",
		"problem", "hand", "part", "place", "case", "week", "company",
		"system", "program", "question", "work", "government", "number",
		"night", "point", "home", "water", "room", "mother", "area", "money",
		"story", "fact", "month", "lot", "right", "study", "book", "eye",
		"job", "word", "business", "issue", "side", "kind", "head", "house",
		"service", "friend", "father", "power", "hour", "game", "line", "end",
		"member", "law", "car", "city", "community", "name", "president",
		"team", "minute", "idea", "body", "information", "back", "parent",
		"face", "others", "level", "office", "door", "health", "person",
		"art", "war", "history", "party", "result", "change", "morning",
		"reason", "research", "girl", "guy", "moment", "air", "teacher",
		"force", "education",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
