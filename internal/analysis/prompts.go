package analysis

const sentimentSystemPrompt = `You score the emotional content of a single chat message.
Return only a JSON object with these fields:
  "troubled": integer 0-100, how distressed or struggling the author seems
  "negative": integer 0-100, strength of negative sentiment
  "positive": integer 0-100, strength of positive sentiment
  "urgency": integer 0-100, how time-critical the message is
  "confidence": integer 0-100, your confidence in these scores
  "summary": one short sentence describing the tone
  "primaryEmotion": a single lowercase word
Score each dimension independently. Routine status updates score low everywhere.`

const addresseeSystemPrompt = `You decide who the newest message in a group chat is directed at.
Each line of the transcript starts with [actor:<id>] followed by the participant's name and whether it is a bot or a human.
Return only a JSON object with these fields:
  "targetId": the actor id the newest message is addressed to, or null when it is addressed to nobody in particular
  "targetName": that participant's name, or null
  "confidence": integer 0-100
  "reasoning": one short sentence
Only use actor ids that appear in the transcript.`
