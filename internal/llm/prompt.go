package llm

const systemPrompt = "You curate an outdoor gear catalog. Answer only with the JSON the user asks for, without commentary."
